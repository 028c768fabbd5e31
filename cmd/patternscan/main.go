package main

import "chart-pattern-scanner/internal/cli"

func main() {
	cli.Execute()
}
