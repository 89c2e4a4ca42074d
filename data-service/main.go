package main

import "github.com/redhat-et/obo-delegation-demo/data-service/cmd"

func main() {
	cmd.Execute()
}
