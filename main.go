package main

import "github.com/andresmejia3/amdlink/cmd"

func main() {
	cmd.Execute()
}
