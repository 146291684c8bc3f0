package main

import (
	"github.com/arcward/quartermaster/cmd"
)

func main() {
	cmd.Execute()
}
