// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/keel/cmd/keel/cmd"
)

func main() {
	cmd.Execute()
}
