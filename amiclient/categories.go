package amiclient

// Category is the coarse classification assigned to every event at
// parse time. The set is closed: routing, metrics, and downstream
// subjects are all keyed by it, so an unrecognized event name must
// still land in a defined bucket.
type Category string

// Event categories. CategoryOther is the total-function fallback for
// names not present in the classification table.
const (
	CategoryOther    Category = "other"
	CategoryCall     Category = "call"
	CategoryQueue    Category = "queue"
	CategoryAgent    Category = "agent"
	CategorySystem   Category = "system"
	CategorySecurity Category = "security"
	CategoryDTMF     Category = "dtmf"
)

// Categories returns every defined category. The slice is freshly
// allocated so callers may reorder it.
func Categories() []Category {
	return []Category{
		CategoryOther,
		CategoryCall,
		CategoryQueue,
		CategoryAgent,
		CategorySystem,
		CategorySecurity,
		CategoryDTMF,
	}
}

// eventCategories maps manager event names to their category. Names
// follow the manager's spelling. Anything absent is CategoryOther.
var eventCategories = map[string]Category{
	// Call lifecycle
	"Newchannel":        CategoryCall,
	"Newstate":          CategoryCall,
	"NewCallerid":       CategoryCall,
	"NewConnectedLine":  CategoryCall,
	"NewExten":          CategoryCall,
	"NewAccountCode":    CategoryCall,
	"Hangup":            CategoryCall,
	"HangupRequest":     CategoryCall,
	"SoftHangupRequest": CategoryCall,
	"DialBegin":         CategoryCall,
	"DialEnd":           CategoryCall,
	"DialState":         CategoryCall,
	"BridgeCreate":      CategoryCall,
	"BridgeDestroy":     CategoryCall,
	"BridgeEnter":       CategoryCall,
	"BridgeLeave":       CategoryCall,
	"BridgeMerge":       CategoryCall,
	"Hold":              CategoryCall,
	"Unhold":            CategoryCall,
	"ParkedCall":        CategoryCall,
	"ParkedCallGiveUp":  CategoryCall,
	"ParkedCallTimeOut": CategoryCall,
	"UnParkedCall":      CategoryCall,
	"MusicOnHoldStart":  CategoryCall,
	"MusicOnHoldStop":   CategoryCall,
	"Pickup":            CategoryCall,
	"AttendedTransfer":  CategoryCall,
	"BlindTransfer":     CategoryCall,
	"LocalBridge":       CategoryCall,
	"OriginateResponse": CategoryCall,
	"Cdr":               CategoryCall,
	"Cel":               CategoryCall,

	// Queue activity
	"QueueCallerJoin":      CategoryQueue,
	"QueueCallerLeave":     CategoryQueue,
	"QueueCallerAbandon":   CategoryQueue,
	"QueueMemberAdded":     CategoryQueue,
	"QueueMemberRemoved":   CategoryQueue,
	"QueueMemberPause":     CategoryQueue,
	"QueueMemberPenalty":   CategoryQueue,
	"QueueMemberRinginuse": CategoryQueue,
	"QueueMemberStatus":    CategoryQueue,
	"QueueEntry":           CategoryQueue,
	"QueueParams":          CategoryQueue,
	"QueueMember":          CategoryQueue,
	"QueueStatusComplete":  CategoryQueue,
	"QueueSummary":         CategoryQueue,

	// Agent activity
	"AgentCalled":       CategoryAgent,
	"AgentConnect":      CategoryAgent,
	"AgentComplete":     CategoryAgent,
	"AgentDump":         CategoryAgent,
	"AgentRingNoAnswer": CategoryAgent,
	"AgentLogin":        CategoryAgent,
	"AgentLogoff":       CategoryAgent,
	"Agents":            CategoryAgent,
	"AgentsComplete":    CategoryAgent,

	// System and peer state
	"Reload":                   CategorySystem,
	"Shutdown":                 CategorySystem,
	"FullyBooted":              CategorySystem,
	"Registry":                 CategorySystem,
	"PeerStatus":               CategorySystem,
	"ContactStatus":            CategorySystem,
	"DeviceStateChange":        CategorySystem,
	"ExtensionStatus":          CategorySystem,
	"PresenceStateChange":      CategorySystem,
	"Alarm":                    CategorySystem,
	"AlarmClear":               CategorySystem,
	"SpanAlarm":                CategorySystem,
	"SpanAlarmClear":           CategorySystem,
	"DNDState":                 CategorySystem,
	"MessageWaiting":           CategorySystem,
	"CoreShowChannel":          CategorySystem,
	"CoreShowChannelsComplete": CategorySystem,

	// Security
	"FailedACL":               CategorySecurity,
	"InvalidAccountID":        CategorySecurity,
	"InvalidPassword":         CategorySecurity,
	"ChallengeResponseFailed": CategorySecurity,
	"ChallengeSent":           CategorySecurity,
	"SuccessfulAuth":          CategorySecurity,
	"UnexpectedAddress":       CategorySecurity,
	"SessionLimit":            CategorySecurity,
	"RequestBadFormat":        CategorySecurity,
	"RequestNotAllowed":       CategorySecurity,
	"RequestNotSupported":     CategorySecurity,
	"AuthMethodNotAllowed":    CategorySecurity,

	// DTMF
	"DTMFBegin": CategoryDTMF,
	"DTMFEnd":   CategoryDTMF,
}

// CategoryOf classifies an event name. The function is total: names
// outside the table return CategoryOther rather than an error.
func CategoryOf(name string) Category {
	if c, ok := eventCategories[name]; ok {
		return c
	}
	return CategoryOther
}
