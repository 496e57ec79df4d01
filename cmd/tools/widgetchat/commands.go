package main

import (
	"fmt"
	"strconv"
	"strings"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
)

type action int

const (
	actionSend action = iota
	actionVoice
	actionMic
	actionSpeaker
	actionEnd
	actionMark
	actionRate
	actionCopy
	actionHelp
	actionQuit
)

type command struct {
	action action
	text   string
	index  int
	mark   feedbackmodel.Mark
	rating int
}

const helpText = `commands:
  <text>       send a message (connects in text mode if needed)
  /voice       start a voice conversation
  /mic         toggle the microphone
  /speaker     toggle the agent's audio
  /end         end the conversation
  /good N      mark entry N helpful
  /bad N       mark entry N not helpful
  /clear N     clear the mark on entry N
  /rate N      rate the conversation 1-5
  /copy N      copy entry N to the clipboard
  /help        show this help
  /quit        exit`

// parseCommand turns one input line into a command. Lines not starting with
// a slash are messages.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{action: actionSend, text: line}, nil
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/voice":
		return command{action: actionVoice}, nil
	case "/mic":
		return command{action: actionMic}, nil
	case "/speaker":
		return command{action: actionSpeaker}, nil
	case "/end":
		return command{action: actionEnd}, nil
	case "/help":
		return command{action: actionHelp}, nil
	case "/quit", "/exit":
		return command{action: actionQuit}, nil
	case "/good", "/bad", "/clear":
		n, err := intArg(name, args)
		if err != nil {
			return command{}, err
		}
		mark := map[string]feedbackmodel.Mark{
			"/good":  feedbackmodel.MarkHelpful,
			"/bad":   feedbackmodel.MarkUnhelpful,
			"/clear": feedbackmodel.MarkNone,
		}[name]
		return command{action: actionMark, index: n, mark: mark}, nil
	case "/copy":
		n, err := intArg(name, args)
		if err != nil {
			return command{}, err
		}
		return command{action: actionCopy, index: n}, nil
	case "/rate":
		n, err := intArg(name, args)
		if err != nil {
			return command{}, err
		}
		return command{action: actionRate, rating: n}, nil
	}
	return command{}, fmt.Errorf("unknown command %s, try /help", name)
}

func intArg(name string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s takes one number", name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, args[0])
	}
	return n, nil
}
