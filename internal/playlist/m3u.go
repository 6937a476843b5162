// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist renders extended M3U playlists.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Item is one #EXTINF entry.
type Item struct {
	Name    string
	TvgID   string
	TvgLogo string
	Group   string
	URL     string
}

// Header carries the attributes of the #EXTM3U line, written in order.
type Header []Attr

// Attr is a key/value attribute. Quoted values are written as key="value".
type Attr struct {
	Key    string
	Value  string
	Quoted bool
}

// WriteM3U writes items after an #EXTM3U line carrying header. tvg-logo is
// omitted for items without a logo.
func WriteM3U(w io.Writer, header Header, items []Item) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U")
	for _, a := range header {
		if a.Quoted {
			fmt.Fprintf(buf, ` %s="%s"`, a.Key, escape(a.Value))
		} else {
			fmt.Fprintf(buf, " %s=%s", a.Key, a.Value)
		}
	}
	buf.WriteByte('\n')

	for _, it := range items {
		fmt.Fprintf(buf, `#EXTINF:-1 tvg-id="%s"`, escape(it.TvgID))
		if it.TvgLogo != "" {
			fmt.Fprintf(buf, ` tvg-logo="%s"`, escape(it.TvgLogo))
		}
		fmt.Fprintf(buf, ` group-title="%s",%s`+"\n", escape(it.Group), oneLine(it.Name))
		buf.WriteString(oneLine(it.URL) + "\n")
	}
	_, err := io.Copy(w, buf)
	return err
}

func escape(s string) string {
	return strings.ReplaceAll(oneLine(s), `"`, "'")
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
