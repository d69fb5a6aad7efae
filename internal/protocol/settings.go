package protocol

// InteractionSetting toggles a single engagement type and the payout
// amount attached to it (a decimal string in token base units).
type InteractionSetting struct {
	IsOn   bool   `json:"isOn"`
	Amount string `json:"amount"`
}

type InteractionSettings struct {
	LikeSetting    InteractionSetting `json:"likeSetting"`
	RecastSetting  InteractionSetting `json:"recastSetting"`
	CommentSetting InteractionSetting `json:"commentSetting"`
	QuoteSetting   InteractionSetting `json:"quoteSetting"`
	FollowSetting  InteractionSetting `json:"followSetting"`
}

type TipSettings struct {
	TipsOn        bool    `json:"tipsOn"`
	TipToken      string  `json:"tipToken"`
	MinScore      float64 `json:"minScore"`
	FollowersOnly bool    `json:"followersOnly"`
	FollowingOnly bool    `json:"followingOnly"`
	// only the first N engagements on a post get rewarded; -1 is unlimited
	PostPayoutLimit int `json:"postPayoutLimit"`
	// one payout per person per post (like + recast only counts once)
	OnePayoutPerPost bool `json:"onePayoutPerPost"`
}

// UserSettings is the complete, fully-populated settings record.
type UserSettings struct {
	InteractionSettings InteractionSettings `json:"interactionSettings"`
	TipSettings         TipSettings         `json:"tipSettings"`
}

// SettingsPatch is a partial UserSettings. A non-nil sub-record replaces
// the corresponding record of the base wholesale; sub-records are never
// deep-merged.
type SettingsPatch struct {
	InteractionSettings *InteractionSettings `json:"interactionSettings,omitempty"`
	TipSettings         *TipSettings         `json:"tipSettings,omitempty"`
}
