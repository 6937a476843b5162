// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatchUpURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "getCatchUpUrl", q.Get("action"))
		assert.Equal(t, "10", q.Get("extInfoID"))
		assert.Equal(t, "1", q.Get("channelID"))
		assert.Equal(t, "hd", q.Get("service"))
		assert.Equal(t, "1", q.Get("mode"))
		_, _ = w.Write([]byte(`{"resultCode":0,"resultData":{"url":"rtsp://10.0.0.1:554/vod/x"}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL).CatchUpURL(context.Background(), "1", 10)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://10.0.0.1:554/vod/x", got)
}

func TestCatchUpURL_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCode":-1,"resultText":"Not available"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CatchUpURL(context.Background(), "1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	var re *ResultError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, -1, re.Code)
	assert.Contains(t, err.Error(), "Not available")
}

func TestCatchUpURL_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).CatchUpURL(context.Background(), "1", 10)
	var re *ResultError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadGateway, re.Status)
}

func TestCloudRecordings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "recordingList", q.Get("action"))
		assert.Equal(t, "999", q.Get("numItems"))
		_, _ = w.Write([]byte(`{"resultCode":0,"resultData":{"result":[
			{"serviceUID":1,"beginTime":1700000000000,"productID":10,"name":"Noticias","duration":3600}
		]}}`))
	}))
	defer srv.Close()

	recs, err := New(srv.URL).CloudRecordings(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1700000000), recs[0].Start())
	assert.Equal(t, 10, recs[0].ProductID)
}

func TestCloudRecordings_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).CloudRecordings(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}
