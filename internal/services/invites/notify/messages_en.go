package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "invite.email.subject", defaultSubject)
	message.SetString(lang, "invite.email.body", defaultBody)
}
