package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/output"
	"rpiweatherd/internal/protocol"
)

func main() {
	var (
		addr     string
		csvPath  string
		jsonPath string
		timeout  time.Duration
		level    string
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:6005", "daemon address")
	flag.StringVar(&csvPath, "csv", "", "export fetched entries to this CSV file")
	flag.StringVar(&jsonPath, "json", "", "export fetched entries to this JSON file")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	flag.StringVar(&level, "log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <fetch|current|statistics|config> [name=value ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, _, _ := logging.New(level, "")
	req := buildRequest(flag.Arg(0), flag.Args()[1:])
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Debugf("sending %q to %s", req.Line(), addr)
	resp, err := protocol.Do(ctx, addr, req.Line())
	if err != nil {
		log.Fatalf("query %s: %v", addr, err)
	}

	if len(resp.Body) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, resp.Body, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(resp.Body)
		}
		fmt.Println(pretty.String())
	}
	if resp.Status != 200 {
		log.Fatalf("daemon answered %d", resp.Status)
	}

	if csvPath == "" && jsonPath == "" {
		return
	}
	if err := export(log, resp.Body, csvPath, jsonPath); err != nil {
		log.Fatalf("export: %v", err)
	}
}

func buildRequest(command string, args []string) *protocol.Request {
	req := &protocol.Request{Method: "GET", Command: command, Protocol: "HTTP/1.1"}
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		req.Params = append(req.Params, protocol.Param{Name: name, Value: value, HasValue: ok})
	}
	return req
}

func export(log logrus.FieldLogger, body []byte, csvPath, jsonPath string) error {
	var eb protocol.EntryBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fmt.Errorf("decode entries: %w", err)
	}
	if eb.Results == nil {
		return errors.New("response carries no entries")
	}
	if csvPath != "" {
		if err := output.WriteCSV(csvPath, eb.Results, eb.Units); err != nil {
			return err
		}
		log.Infof("wrote %d entries to %s", len(eb.Results), csvPath)
	}
	if jsonPath != "" {
		if err := output.WriteJSON(jsonPath, eb.Results); err != nil {
			return err
		}
		log.Infof("wrote %d entries to %s", len(eb.Results), jsonPath)
	}
	return nil
}
