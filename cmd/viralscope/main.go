package main

import "github.com/strrl/viralscope/internal/cmd"

func main() {
	cmd.Execute()
}
