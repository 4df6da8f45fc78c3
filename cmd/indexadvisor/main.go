// Command indexadvisor is a thin invocation boundary over pkg/core: it reads
// a SQL statement from its command-line argument (or stdin when omitted),
// runs it through analyse, and prints the result (plan metrics, scans, and
// proposals) as JSON. REST
// and CLI front-ends, authentication, and request logging are explicitly out
// of the core's scope; this binary exists only to exercise the boundary.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"indexadvisor/pkg/config"
	"indexadvisor/pkg/core"
	"indexadvisor/pkg/logging"
)

func main() {
	cfg := config.LoadConfigOrDefault()
	logger := logging.New(logging.ParseLevel(cfg.LogLevel))

	logger.Info("loaded config: host=%s port=%d database=%s pool=%d/%d", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database, cfg.PoolMin, cfg.PoolMax)

	sqlText, err := readStatement()
	if err != nil {
		logger.Error("failed to read statement: %v", err)
		os.Exit(1)
	}

	c, err := core.Open(cfg, logger)
	if err != nil {
		logger.Error("failed to open gateway: %v", err)
		os.Exit(1)
	}
	defer c.Close()

	result, err := c.Analyse(context.Background(), sqlText, false)
	if err != nil {
		logger.Error("analyse failed: %v", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("failed to encode result: %v", err)
		os.Exit(1)
	}
}

func readStatement() (string, error) {
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", err
	}
	sqlText := string(data)
	if sqlText == "" {
		return "", fmt.Errorf("no SQL statement supplied on argv or stdin")
	}
	return sqlText, nil
}
