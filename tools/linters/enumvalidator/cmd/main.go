package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"alphaforge.app/scout/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
