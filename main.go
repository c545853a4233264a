package main

import "github.com/quantbot/ultramm/cmd"

func main() {
	cmd.Execute()
}
