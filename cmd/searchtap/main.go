package main

import "github.com/JakeFAU/search-console-tap/cmd"

func main() {
	cmd.Execute()
}
