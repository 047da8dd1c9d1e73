// Package main provides the CLI entrypoint for examcast.
package main

import (
	_ "time/tzdata"
)

func main() {
	Execute()
}
