//go:build cgo

package remote

import (
	_ "github.com/tursodatabase/go-libsql"
)

func init() {
	dialects["libsql"] = &dialect{
		name:    "libsql",
		driver:  "libsql",
		intType: "INTEGER",
	}
}
