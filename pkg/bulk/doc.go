// Package bulk applies one action (a reaction) to many messages of a
// channel, walking the history newest first with a "before" cursor.
//
// Discord's rate limit is global per token, so the runner never overlaps
// requests: one page fetch, then one reaction at a time, with a fixed delay
// after each reaction. 429 handling lives in the discord transport.
//
// Example usage:
//
//	client, _ := discord.New(discord.DefaultConfig(token))
//	runner, _ := bulk.NewRunner(client, client, nil, bulk.Config{
//		ChannelID: channelID,
//		Emoji:     "👍",
//		Limit:     150,
//		Delay:     bulk.DefaultDelay,
//	})
//	result, err := runner.Run(ctx)
//
// The run:
//   - Reacts to StartingMessage first, when given, and pages from there
//   - Fetches min(remaining, 100) ids per page
//   - Uses the last reacted message as the next "before" boundary
//   - Stops early, without error, on an empty page
//   - Aborts on the first failure, reporting the last reacted message
package bulk
