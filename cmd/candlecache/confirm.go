package main

import (
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

// isTerminal reports whether stdin is interactive; tests replace it.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question on the terminal; tests replace it.
var confirm = promptConfirm

var answers = []prompt.Suggest{
	{Text: "yes", Description: "proceed"},
	{Text: "no", Description: "abort"},
}

func answerCompleter(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(answers, d.GetWordBeforeCursor(), true)
}

func promptConfirm(question string) bool {
	answer := prompt.Input(question, answerCompleter)
	return isYes(answer)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
