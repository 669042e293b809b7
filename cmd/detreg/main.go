package main

import "github.com/y0ug/detreg/internal/cmd"

func main() {
	cmd.Execute()
}
