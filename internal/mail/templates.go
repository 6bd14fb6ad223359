package mail

import "text/template"

type templateData struct {
	Email string
	Link  string
}

var verifyTemplate = template.Must(template.New("verify_email").Parse(`
Welcome to UpContacts, {{.Email}}!

Confirm your email address by opening the link below:

{{.Link}}

If you did not create an account, you can ignore this message.
`))

var resetTemplate = template.Must(template.New("reset_password").Parse(`
A password reset was requested for {{.Email}}.

Open the link below to choose a new password. The link is valid for one hour.

{{.Link}}

If you did not request a reset, you can ignore this message.
`))
