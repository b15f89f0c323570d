package mongodb

const (
	SessionsCollection      = "sessions"      // per-IP rate limit sessions
	SessionTokensCollection = "sessionTokens" // opaque bearer tokens
	SecurityFlagsCollection = "securityFlags" // audit trail
	UsersCollection         = "users"         // site accounts
	ForumAccountsCollection = "forumAccounts" // QuartzForums identities
	ForumMessagesCollection = "forumMessages" // QuartzForums posts
)
