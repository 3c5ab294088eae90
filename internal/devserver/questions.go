package devserver

import (
	"github.com/DoyleJ11/quiz-client/internal/account"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
)

// Question is a protocol question plus the index of its right answer.
type Question struct {
	protocol.Question
	Correct    int
	CategoryID int
}

const (
	GameStandard = "standard"
	GameCursor   = "cursor"
)

var gameTypes = []account.GameType{
	{ID: GameStandard, Name: "Standard"},
	{ID: GameCursor, Name: "Cursor race"},
}

var categories = []account.Category{
	{ID: 9, Name: "General knowledge"},
	{ID: 17, Name: "Science"},
	{ID: 22, Name: "Geography"},
}

var defaultQuestions = []Question{
	{Question: protocol.Question{ID: "q-1", Text: "How many continents are there?", Answers: []string{"5", "6", "7", "8"}}, Correct: 2, CategoryID: 22},
	{Question: protocol.Question{ID: "q-2", Text: "What is the chemical symbol for gold?", Answers: []string{"Ag", "Au", "Gd", "Go"}}, Correct: 1, CategoryID: 17},
	{Question: protocol.Question{ID: "q-3", Text: "Which planet is known as the red planet?", Answers: []string{"Venus", "Jupiter", "Mars", "Mercury"}}, Correct: 2, CategoryID: 17},
	{Question: protocol.Question{ID: "q-4", Text: "What is the capital of Canada?", Answers: []string{"Toronto", "Ottawa", "Vancouver", "Montreal"}}, Correct: 1, CategoryID: 22},
	{Question: protocol.Question{ID: "q-5", Text: "How many sides does a hexagon have?", Answers: []string{"5", "6", "7", "8"}}, Correct: 1, CategoryID: 9},
}

// questionsFor returns the bank filtered to category, or the whole bank
// when nothing matches.
func questionsFor(bank []Question, categoryID int) []Question {
	var out []Question
	for _, q := range bank {
		if q.CategoryID == categoryID {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return bank
	}
	return out
}
