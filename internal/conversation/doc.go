// Package conversation turns inbound chat messages into NLU queries and NLU
// answers back into chat replies.
//
// # Routing
//
// Router.Route applies the message policy in a fixed order: non-message
// events, the bot's own messages and messages that open by mentioning
// someone else are dropped; then the per-class toggles (ambient, direct
// message, direct mention, mention) are checked. Accepted text is
// normalized and paired with the channel's session id from the fleet
// registry:
//
//	req, verdict := router.Route(conversation.Inbound{TeamID: team, BotID: bot, Event: ev})
//
// # Translation
//
// Translate is pure: a fulfillment carrying data.slack is forwarded as the
// reply payload, plain speech becomes {"text": speech}, anything else is
// NoReply.
//
// # Handling
//
// Service implements fleet.Handler and runs route, dedupe, typing, query,
// translate and reply for each message. Failures are logged and the
// connection keeps running.
package conversation
