package settings

import "github.com/circuit-labs/circuit/internal/protocol"

// usdcTenCents is 0.1 USDC in base units (6 decimals).
const usdcTenCents = "100000"

const usdcContractAddress = ""

// default settings
const (
	defaultMinNeynarScore   = 0.2
	defaultFollowersOnly    = true
	defaultFollowingOnly    = false
	defaultPostPayoutLimit  = -1
	defaultOnePayoutPerPost = false
	defaultTipsOn           = false
)

// DefaultUserSettings is the document seeded on first read for a fid
// with no stored record.
func DefaultUserSettings() protocol.UserSettings {
	return protocol.UserSettings{
		InteractionSettings: protocol.InteractionSettings{
			LikeSetting:    protocol.InteractionSetting{IsOn: true, Amount: usdcTenCents},
			RecastSetting:  protocol.InteractionSetting{IsOn: true, Amount: usdcTenCents},
			CommentSetting: protocol.InteractionSetting{IsOn: true, Amount: usdcTenCents},
			QuoteSetting:   protocol.InteractionSetting{IsOn: true, Amount: usdcTenCents},
			FollowSetting:  protocol.InteractionSetting{IsOn: true, Amount: usdcTenCents},
		},
		TipSettings: protocol.TipSettings{
			TipsOn:           defaultTipsOn,
			TipToken:         usdcContractAddress,
			MinScore:         defaultMinNeynarScore,
			FollowersOnly:    defaultFollowersOnly,
			FollowingOnly:    defaultFollowingOnly,
			PostPayoutLimit:  defaultPostPayoutLimit,
			OnePayoutPerPost: defaultOnePayoutPerPost,
		},
	}
}
