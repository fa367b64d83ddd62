package main

import "github.com/faqtune/faqtune"

func main() {
	faqtune.Execute()
}
