package main

import "github.com/redhat-et/obo-delegation-demo/demo-client/cmd"

func main() {
	cmd.Execute()
}
