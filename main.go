package main

import (
	"log"

	"github.com/bobuhiro11/gobgrt/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
