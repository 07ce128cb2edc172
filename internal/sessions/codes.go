package sessions

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "blue", "red", "green", "bright", "gentle",
	"brave", "calm", "swift", "silent", "curious", "bouncy", "fuzzy", "plucky", "merry", "clever",
}

var subjects = []string{
	"algebra", "biology", "chemistry", "physics", "geometry", "history", "poetry", "grammar", "music", "drama",
	"calculus", "geology", "botany", "zoology", "ethics", "logic", "latin", "economics", "civics", "astronomy",
	"statistics", "anatomy", "robotics", "painting", "spelling", "phonics", "ecology", "genetics", "optics", "coding",
}

var supplies = []string{
	"pencil", "crayon", "eraser", "ruler", "notebook", "compass", "marker", "chalk", "globe", "backpack",
	"stapler", "binder", "easel", "abacus", "beaker", "magnet", "prism", "telescope", "microscope", "atlas",
	"lantern", "sharpener", "scissors", "folder", "sticker", "whistle", "bell", "desk", "locker", "satchel",
}

var creatures = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"owl", "penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "dolphin", "narwhal",
	"dragon", "unicorn", "griffin", "phoenix", "pixie", "gnome", "comet", "nebula", "meteor", "orbit",
}

// newCode returns a memorable adjective-subject-supply-creature code that
// taken does not report as in use.
func newCode(taken func(string) bool) string {
	for {
		code := fmt.Sprintf("%s-%s-%s-%s",
			pick(adjectives), pick(subjects), pick(supplies), pick(creatures))
		if taken == nil || !taken(code) {
			return code
		}
	}
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("sessions: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}
