package main

import "github.com/mailpress/newsletter-gateway/cmd"

func main() {
	cmd.Execute()
}
