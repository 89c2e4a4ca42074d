package main

import "github.com/redhat-et/obo-delegation-demo/profile-service/cmd"

func main() {
	cmd.Execute()
}
