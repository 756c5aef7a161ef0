package enrich

import (
	"regexp"
	"strings"
)

type BlockedReason string

const (
	ReasonRobot        BlockedReason = "robot"
	ReasonAccessDenied BlockedReason = "access_denied"
	ReasonNotFound     BlockedReason = "404"
	ReasonExpired      BlockedReason = "expired"
	ReasonPaywall      BlockedReason = "paywall"
	ReasonGarbage      BlockedReason = "garbage"
)

type blockedPattern struct {
	reason BlockedReason
	re     *regexp.Regexp
}

func pattern(reason BlockedReason, expr string) blockedPattern {
	return blockedPattern{reason: reason, re: regexp.MustCompile(`(?i)` + expr)}
}

// Order matters: the first matching pattern decides the reason.
var blockedPatterns = []blockedPattern{
	pattern(ReasonRobot, `^just a moment\b`),
	pattern(ReasonRobot, `^attention required`),
	pattern(ReasonRobot, `\bare you a (robot|human)\b`),
	pattern(ReasonRobot, `\bverify(ing)? (that )?you are (a )?human\b`),
	pattern(ReasonRobot, `\bchecking (your|if the site connection is secure|the site connection)`),
	pattern(ReasonRobot, `\b(re)?captcha\b`),
	pattern(ReasonRobot, `\bddos[- ]protection\b`),
	pattern(ReasonRobot, `\bbot (verification|detection|check)\b`),
	pattern(ReasonRobot, `^security check`),
	pattern(ReasonRobot, `^one more step$`),
	pattern(ReasonRobot, `please enable (javascript|cookies)`),
	pattern(ReasonRobot, `^(human verification|pardon our interruption)`),

	pattern(ReasonAccessDenied, `^access denied\b`),
	pattern(ReasonAccessDenied, `^(401|403|451)\b`),
	pattern(ReasonAccessDenied, `^forbidden$`),
	pattern(ReasonAccessDenied, `^unauthori[sz]ed`),
	pattern(ReasonAccessDenied, `\byou don'?t have permission\b`),
	pattern(ReasonAccessDenied, `\b(request|you have been|access) (has been )?blocked\b`),
	pattern(ReasonAccessDenied, `^blocked$`),

	pattern(ReasonNotFound, `^(error )?404\b`),
	pattern(ReasonNotFound, `\b404\b.*\b(not found|error|page)\b`),
	pattern(ReasonNotFound, `^(page|file|article|story) not found\b`),
	pattern(ReasonNotFound, `^not found$`),
	pattern(ReasonNotFound, `\bpage (you requested )?(does not|doesn'?t|could not|cannot) (be found|exist)\b`),
	pattern(ReasonNotFound, `^oops[!.,]? (page|something)`),

	pattern(ReasonExpired, `^410\b`),
	pattern(ReasonExpired, `\b(page|content|link|article|offer|listing) (has )?expired\b`),
	pattern(ReasonExpired, `\bno longer (available|exists)\b`),
	pattern(ReasonExpired, `\b(content|article|page) (is )?(unavailable|has been removed)\b`),
	pattern(ReasonExpired, `^session (has )?expired`),

	pattern(ReasonPaywall, `\bsubscribe to (continue|read|unlock)\b`),
	pattern(ReasonPaywall, `\bsubscription required\b`),
	pattern(ReasonPaywall, `\bsubscribers? only\b`),
	pattern(ReasonPaywall, `\bpaywall\b`),
	pattern(ReasonPaywall, `\b(sign|log) ?in to (continue|read)\b`),
	pattern(ReasonPaywall, `\bregister to (continue|read)\b`),
	pattern(ReasonPaywall, `\bpremium (content|article) for subscribers\b`),

	pattern(ReasonGarbage, `^(untitled( document)?|home( page)?|homepage|index|document|page|title|welcome|null|undefined|error|loading|redirecting)[.!…]*$`),
	pattern(ReasonGarbage, `^https?://`),
	pattern(ReasonGarbage, `^www\.`),
	pattern(ReasonGarbage, `^[^\pL\pN]*$`),
}

// Classify matches a title against the blocked-content patterns.
func Classify(title string) (BlockedReason, bool) {
	normalized := strings.Join(strings.Fields(title), " ")
	if normalized == "" {
		return "", false
	}
	for _, p := range blockedPatterns {
		if p.re.MatchString(normalized) {
			return p.reason, true
		}
	}
	return "", false
}

// IsGarbageTitle reports whether a stored title should be discarded instead of
// displayed.
func IsGarbageTitle(title string) bool {
	_, blocked := Classify(title)
	return blocked
}
