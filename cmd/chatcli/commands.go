package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdReply
	cmdEdit
	cmdDelete
	cmdUnsend
	cmdRetry
	cmdOlder
	cmdHelp
	cmdQuit
)

type command struct {
	kind commandKind
	id   uint64
	text string
	all  bool
}

const usage = `commands:
  <text>                 send a message
  /reply <id> <text>     reply to a message
  /edit <id> <text>      edit your message
  /delete <id> [all]     delete for yourself, or for everyone
  /unsend <id>           unsend your message
  /retry                 resend failed messages
  /older                 load older messages
  /quit`

var errEmpty = errors.New("empty input")

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmpty
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSend, text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "reply", "edit":
		idStr, text, _ := strings.Cut(rest, " ")
		id, err := parseID(idStr)
		if err != nil {
			return command{}, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return command{}, fmt.Errorf("/%s needs a message", name)
		}
		kind := cmdReply
		if name == "edit" {
			kind = cmdEdit
		}
		return command{kind: kind, id: id, text: text}, nil

	case "delete":
		idStr, scope, _ := strings.Cut(rest, " ")
		id, err := parseID(idStr)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdDelete, id: id, all: strings.TrimSpace(scope) == "all"}, nil

	case "unsend":
		id, err := parseID(rest)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdUnsend, id: id}, nil

	case "retry":
		return command{kind: cmdRetry}, nil
	case "older":
		return command{kind: cmdOlder}, nil
	case "help":
		return command{kind: cmdHelp}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command /%s", name)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}
