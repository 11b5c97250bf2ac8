package stage

import (
	"fmt"
	"sort"
	"strings"
)

// Scheduling policy names.
const (
	PolicyRoundRobin = "round_robin"
	PolicyModerator  = "moderator"
	PolicyEnsemble   = "ensemble"
)

// StageRule describes how actors behave and take turns on one kind of stage.
type StageRule struct {
	Tag              string
	Name             string
	Policy           string
	MaxMessageLength int
	AllowOOC         bool
	NarratorPrefix   string
	instructions     string
}

var stageRules = map[string]StageRule{
	"chat_group": {
		Tag: "chat_group", Name: "Group chat", Policy: PolicyRoundRobin,
		MaxMessageLength: 50, NarratorPrefix: "📢 Announcement",
		instructions: "You are {nickname} in the group chat \"{group}\" with {members}. " +
			"Write short, casual chat messages. Never narrate actions or describe yourself in the third person.",
	},
	"forum": {
		Tag: "forum", Name: "Web forum", Policy: PolicyEnsemble,
		MaxMessageLength: 500, NarratorPrefix: "🎬 Narrator",
		instructions: "You are {nickname} posting in the forum thread \"{group}\". Other posters: {members}. " +
			"Write one self-contained post. Quote others only when replying to them.",
	},
	"trpg": {
		Tag: "trpg", Name: "Tabletop role-play", Policy: PolicyModerator,
		MaxMessageLength: 500, AllowOOC: true, NarratorPrefix: "🎬 Narrator",
		instructions: "You are {nickname} at the table \"{group}\" with {members}. The first player listed is the game master. " +
			"Stay in character; out-of-character remarks go in (parentheses).",
	},
	"debate": {
		Tag: "debate", Name: "Debate", Policy: PolicyModerator,
		MaxMessageLength: 500, NarratorPrefix: "🎙️ Chair",
		instructions: "You are {nickname} in the debate \"{group}\" with {members}. The first speaker listed chairs the debate. " +
			"Make one argument per turn and answer the previous speaker directly.",
	},
	"court": {
		Tag: "court", Name: "Courtroom", Policy: PolicyModerator,
		MaxMessageLength: 500, NarratorPrefix: "⚖️ Court notice",
		instructions: "You are {nickname} in the courtroom \"{group}\" with {members}. The first participant listed presides. " +
			"Speak only when addressed by the presiding judge or when presenting your case.",
	},
	"game": {
		Tag: "game", Name: "Strategy game", Policy: PolicyRoundRobin,
		MaxMessageLength: 500, NarratorPrefix: "🎬 Narrator",
		instructions: "You are {nickname} playing \"{group}\" against {members}. State your move and your reasoning in character. " +
			"Keep your private information private.",
	},
	"maze": {
		Tag: "maze", Name: "Whisper maze", Policy: PolicyRoundRobin,
		MaxMessageLength: 500, NarratorPrefix: "🎬 Narrator",
		instructions: "You are {nickname} in the whisper chain \"{group}\" with {members}. Pass on what you heard from the previous speaker " +
			"in your own words. You may only speak to the next person in line.",
	},
}

var stageRuleAliases = map[string]string{
	"聊天群聊":  "chat_group",
	"网站论坛":  "forum",
	"跑团桌":   "trpg",
	"辩论赛":   "debate",
	"审判法庭":  "court",
	"博弈游戏":  "game",
	"传话筒迷宫": "maze",
}

// LookupStageRule resolves a stage-rule tag. An empty tag resolves to chat_group.
func LookupStageRule(tag string) (StageRule, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = "chat_group"
	}
	if canonical, ok := stageRuleAliases[tag]; ok {
		tag = canonical
	}
	rule, ok := stageRules[strings.ToLower(tag)]
	return rule, ok
}

// StageRuleTags returns the known canonical tags in sorted order.
func StageRuleTags() []string {
	tags := make([]string, 0, len(stageRules))
	for tag := range stageRules {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Instructions renders the rule's behaviour text for one actor.
func (r StageRule) Instructions(nickname, group string, members []string) string {
	others := make([]string, 0, len(members))
	for _, m := range members {
		if m != nickname {
			others = append(others, m)
		}
	}
	memberList := strings.Join(others, ", ")
	if memberList == "" {
		memberList = "nobody else"
	}

	text := strings.NewReplacer(
		"{nickname}", nickname,
		"{group}", group,
		"{members}", memberList,
	).Replace(r.instructions)

	if r.MaxMessageLength > 0 {
		text += fmt.Sprintf(" Keep each message under %d characters.", r.MaxMessageLength)
	}
	return text
}
