package sqlite

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension for every new
	// connection; the store still probes vec_version() at init and degrades
	// to exact scans if registration did not take effect.
	vec.Auto()
}
