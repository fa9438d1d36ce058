// Package auth handles tenant provisioning credentials for coven-fleet.
//
// # Credential Exchange
//
// Exchanger turns the authorization code from the platform's install
// redirect into a bot token, then calls auth.test with the installing
// user's token to learn who installed the bot and for which workspace:
//
//	ex := auth.NewExchanger(slackClient, clientID, clientSecret, logger)
//	grant, err := ex.Exchange(ctx, code, redirectURI)
//
// It does not retry, persist or activate. Those steps belong to the
// control endpoint.
//
// # Install State
//
// StateSigner issues short-lived HS256 JWTs used as the OAuth "state"
// parameter. The /install route issues one and /start verifies it, which
// ties a code to an install that this deployment started. Checking is only
// enabled when auth.state_secret is configured.
package auth
