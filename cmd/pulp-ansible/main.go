package main

import (
	"github.com/pulp/pulp-ansible-sub001/internal/cli"
)

func main() {
	cli.Execute()
}
