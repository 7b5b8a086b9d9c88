package bot

import "github.com/monkebot/monkebot/model"

// RespondPolicy decides whether an incoming reply or mention deserves a
// response at all. Real spam or repetition filtering slots in here.
type RespondPolicy interface {
	ShouldRespond(content string, context []model.Interaction) bool
}

// AlwaysRespond answers everything. It is the default policy.
type AlwaysRespond struct{}

func (AlwaysRespond) ShouldRespond(string, []model.Interaction) bool {
	return true
}
