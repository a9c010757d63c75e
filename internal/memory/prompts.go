package memory

const extractSystemPrompt = `You extract durable personal facts about the user from a single chat message.
Write each fact on its own line as a short third-person statement, for example:
User has a dog named Rex
User works night shifts
Only include facts that stay true beyond this conversation: names, relationships, work, health, preferences, important events.
Do not include feelings that only describe the moment.
If the message contains no such facts, reply with exactly: None`

const summarySystemPrompt = `You maintain a short profile of a user for a supportive assistant.
Summarize the facts below in two or three sentences. Merge duplicates, and when facts conflict prefer the later one.
Write in third person and do not add anything that is not stated.`
