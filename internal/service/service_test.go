// File: internal/service/service_test.go
package service

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/xkilldash9x/scrapeflow/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig returns defaults pointed at an in-memory data store.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.DataStoreCfg.DSN = ":memory:"
	cfg.DatabaseCfg.URL = ""
	return cfg
}
