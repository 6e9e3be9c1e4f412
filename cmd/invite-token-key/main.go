// Package main provides a one-shot utility for invite token key generation.
//
// It emits the root HMAC key material consumed by the invite token codec.
package main

import (
	"flag"
	"os"

	"github.com/tabsplit/tabsplit/internal/platform/config"
	"github.com/tabsplit/tabsplit/internal/tools/tokenkey"
)

func main() {
	cfg, err := tokenkey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := tokenkey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
