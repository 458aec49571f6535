package main

import (
	"github.com/JustMaier/groundDb/cmd"
)

func main() {
	cmd.Execute()
}
