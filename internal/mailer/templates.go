package mailer

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

func builtinTemplates() map[Kind]template {
	mk := func(subject, text, html string) template {
		return template{
			subject: subject,
			text:    texttemplate.Must(texttemplate.New("text").Option("missingkey=zero").Parse(text)),
			html:    htmltemplate.Must(htmltemplate.New("html").Option("missingkey=zero").Parse(html)),
		}
	}

	return map[Kind]template{
		KindVerification: mk(
			"Verify your email address",
			"Please verify your email address by opening the link below:\n\n{{.AppURL}}/verify-email?token={{.Token}}\n\nThe link expires in 24 hours.\n",
			`<p>Please verify your email address.</p><p><a href="{{.AppURL}}/verify-email?token={{.Token}}">Verify email</a></p><p>The link expires in 24 hours.</p>`,
		),
		KindWelcome: mk(
			"Welcome to Prompt-Base",
			"Hi {{.Name}},\n\nYour email is verified. Get started at {{.AppURL}}/dashboard\n",
			`<p>Hi {{.Name}},</p><p>Your email is verified.</p><p><a href="{{.AppURL}}/dashboard">Go to your dashboard</a></p>`,
		),
		KindPasswordReset: mk(
			"Reset your password",
			"We received a request to reset your password. Open the link below within one hour:\n\n{{.AppURL}}/reset-password?token={{.Token}}\n\nIf you did not ask for this, ignore this email.\n",
			`<p>We received a request to reset your password.</p><p><a href="{{.AppURL}}/reset-password?token={{.Token}}">Reset password</a></p><p>The link expires in one hour. If you did not ask for this, ignore this email.</p>`,
		),
		KindPasswordResetSuccess: mk(
			"Password Reset Successful",
			"Your password has been successfully reset. You can sign in at {{.AppURL}}/login\n",
			`<p>Your password has been successfully reset.</p><p><a href="{{.AppURL}}/login">Sign in</a></p>`,
		),
	}
}
