package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.BrazilianPortuguese

	message.SetString(lang, "invite.email.subject", "Você foi convidado para um grupo no TabSplit")
	message.SetString(lang, "invite.email.body", "Você foi convidado para dividir despesas no TabSplit. Abra este link para participar: %s. O convite expira em %s.")
}
