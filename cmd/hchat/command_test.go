package main

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    command
		wantErr bool
	}{
		{"Text", "hello there", command{kind: cmdText, text: "hello there"}, false},
		{"Text keeps spacing", "  indented", command{kind: cmdText, text: "  indented"}, false},
		{"Image", "/img cat.png", command{kind: cmdImage, arg: "cat.png"}, false},
		{"Image with caption", "/img cat.png  look at this ", command{kind: cmdImage, arg: "cat.png", text: "look at this"}, false},
		{"Image without path", "/img", command{}, true},
		{"React", "/react 1a2b3c4d 👍", command{kind: cmdReact, arg: "1a2b3c4d", emoji: "👍"}, false},
		{"React missing emoji", "/react 1a2b3c4d", command{}, true},
		{"Who", "/who", command{kind: cmdWho}, false},
		{"Search", "/search Hello World", command{kind: cmdSearch, text: "Hello World"}, false},
		{"Voice", "/voice on my way", command{kind: cmdVoice, text: "on my way"}, false},
		{"Help", "/help", command{kind: cmdHelp}, false},
		{"Quit", "/quit", command{kind: cmdQuit}, false},
		{"Exit", "/exit", command{kind: cmdQuit}, false},
		{"Unknown", "/dance", command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseCommandEmpty(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		if _, err := parseCommand(line); !errors.Is(err, errEmptyLine) {
			t.Errorf("parseCommand(%q) error = %v, want errEmptyLine", line, err)
		}
	}
}
