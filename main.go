package main

import "github.com/rekku-dl/rekku/cmd"

func main() {
	cmd.Execute()
}
