package main

import "github.com/edgeflare/advres/cmd/advres"

func main() {
	advres.Main()
}
