// Copyright 2025 NorthPeak Malaysia Sdn Bhd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect string
		in      string
		want    string
	}{
		{"postgres", `SELECT * FROM t WHERE a = ? AND b = ?`, `SELECT * FROM t WHERE a = $1 AND b = $2`},
		{"postgres", `INSERT INTO t VALUES (?, ?, ?)`, `INSERT INTO t VALUES ($1, $2, $3)`},
		{"postgres", `SELECT 1`, `SELECT 1`},
		{"sqlite", `SELECT * FROM t WHERE a = ?`, `SELECT * FROM t WHERE a = ?`},
		{"mysql", `SELECT * FROM t WHERE a = ?`, `SELECT * FROM t WHERE a = ?`},
	}
	for _, tt := range tests {
		d := &DB{Dialect: tt.dialect}
		if got := d.Rebind(tt.in); got != tt.want {
			t.Errorf("Rebind(%s, %q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestConfigSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	if c.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", c.Driver)
	}
	if c.DSN != "swarmai.db" {
		t.Errorf("DSN = %q, want swarmai.db", c.DSN)
	}
	if c.MaxConns != 10 || c.MaxIdle != 2 {
		t.Errorf("pool defaults = %d/%d, want 10/2", c.MaxConns, c.MaxIdle)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite ok", Config{Driver: "sqlite", DSN: ":memory:"}, false},
		{"postgres ok", Config{Driver: "postgres", DSN: "postgres://localhost/db"}, false},
		{"unknown driver", Config{Driver: "oracle", DSN: "x"}, true},
		{"missing dsn", Config{Driver: "mysql"}, true},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(&Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
}
