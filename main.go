package main

import (
	"embed"

	"rcp-ptz/cmd"
)

//go:embed web/*
var staticFiles embed.FS

func main() {
	cmd.Execute(staticFiles)
}
