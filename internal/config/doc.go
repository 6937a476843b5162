// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the runtime configuration shared by the stream service,
// the EPG service and the session unit.
//
// Precedence is ENV > YAML file > defaults. All keys are optional.
package config
