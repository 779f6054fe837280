package main

import (
	"errors"
	"fmt"
	"strings"
)

type commandKind int

const (
	cmdText commandKind = iota
	cmdImage
	cmdReact
	cmdWho
	cmdSearch
	cmdVoice
	cmdHelp
	cmdQuit
)

type command struct {
	kind commandKind
	// text is the message, caption, search term or voice transcript.
	text string
	// arg is the image path or message id.
	arg   string
	emoji string
}

var errEmptyLine = errors.New("empty line")

const helpText = `commands:
  <text>                   send a message (end a line with \ to continue it)
  /img <path> [caption]    send an image
  /react <id> <emoji>      toggle a reaction on a message
  /who                     list who is online
  /search <term>           search the timeline
  /voice <transcript>      send a voice message
  /help                    show this help
  /quit                    leave the room`

func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{}, errEmptyLine
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{kind: cmdText, text: line}, nil
	}

	name, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/img":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			return command{}, errors.New("usage: /img <path> [caption]")
		}
		return command{kind: cmdImage, arg: path, text: strings.TrimSpace(caption)}, nil
	case "/react":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return command{}, errors.New("usage: /react <id> <emoji>")
		}
		return command{kind: cmdReact, arg: fields[0], emoji: fields[1]}, nil
	case "/who":
		return command{kind: cmdWho}, nil
	case "/search":
		return command{kind: cmdSearch, text: rest}, nil
	case "/voice":
		return command{kind: cmdVoice, text: rest}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %s, try /help", name)
}
