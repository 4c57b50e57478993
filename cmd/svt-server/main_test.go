package main

import (
	"strings"
	"testing"
)

func TestImportCSVRequiresFileFlag(t *testing.T) {
	cmd := importCSVCmd()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--file") {
		t.Fatalf("err = %v", err)
	}
}

func TestSubcommandNames(t *testing.T) {
	if serveCmd().Use != "serve" {
		t.Errorf("serve command use = %q", serveCmd().Use)
	}
	if importCSVCmd().Use != "import-csv" {
		t.Errorf("import-csv command use = %q", importCSVCmd().Use)
	}
}
