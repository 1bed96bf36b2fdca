// Package githubevents turns verified GitHub webhook deliveries into agent
// events, lot state updates and queued follow-up actions.
package githubevents
