package policy

// Defaults returns the built-in policy. Each call returns a fresh copy that
// the caller may modify before compiling.
func Defaults() *Policy {
	return &Policy{
		Keywords: Keywords{
			Medical: []string{
				"unconscious", "unresponsive", "passed out", "collapsed",
				"not breathing", "breathing", "can't breathe", "cannot breathe", "no pulse",
				"chest pain", "heart attack", "stroke", "seizure",
				"bleeding", "choking", "overdose", "allergic reaction", "broken bone",
			},
			Fire: []string{
				"fire", "smoke", "explosion", "flames", "gas leak", "burning",
			},
			Violence: []string{
				"gun", "weapon", "knife", "assault", "attacked", "violence",
				"robbery", "break in", "intruder", "shot", "stabbed",
			},
			SelfHarm: []string{
				"kill myself", "suicide", "suicidal", "end my life", "self-harm",
				"want to hurt myself", "want to die",
			},
		},

		// Emergency vocabulary layered onto the stock VADER lexicon, which
		// has no entry for most of these.
		Lexicon: map[string]float64{
			"bleeding":     -1.6,
			"collapsed":    -2.1,
			"choking":      -2.2,
			"fire":         -1.4,
			"flames":       -1.4,
			"injured":      -1.7,
			"overdose":     -2.4,
			"seizure":      -1.5,
			"smoke":        -0.8,
			"stabbed":      -3.0,
			"trapped":      -2.4,
			"unconscious":  -2.5,
			"unresponsive": -2.3,
		},

		Thresholds: Thresholds{
			Empathy:  0.05,
			Distress: -0.6,
			Dispatch: 0.85,
			Critical: 0.85,
			High:     0.6,
			Medium:   0.3,
		},

		Limits: Limits{
			LoopWindow:      5,
			MaxTurns:        50,
			MaxMessageBytes: 4096,
		},

		Safety: Safety{
			Profanity: []string{
				"damn", "hell", "shit", "fuck", "fucking", "crap", "bitch", "bastard", "ass",
			},
			CrisisText: "I'm really glad you told me, and you don't have to go through this alone. " +
				"You can call or text 988 to reach the Suicide and Crisis Lifeline right now, " +
				"and I'm connecting you with a crisis counselor. Please stay with me.",
			TransferText: "We've reached the limit of what I can do in this conversation. " +
				"I'm transferring you to a human operator who will stay with you until help arrives.",
			StalledText: "I want to make sure you get help quickly, so I'm passing this call " +
				"straight to an emergency dispatcher now.",
		},

		Checklists: map[string][]Question{
			"medical": {
				{Key: "consciousness", Prompt: "Is the person conscious and able to respond?", Kind: AnswerYesNo},
				{Key: "breathing", Prompt: "Is the person breathing normally?", Kind: AnswerYesNo},
				{Key: "bleeding", Prompt: "Is there any severe bleeding?", Kind: AnswerYesNo},
				{Key: "location", Prompt: "What is your exact location?", Kind: AnswerText},
				{Key: "age", Prompt: "What is the person's approximate age?", Kind: AnswerText},
			},
			"fire": {
				{Key: "location", Prompt: "What is the address of the fire?", Kind: AnswerText},
				{Key: "trapped", Prompt: "Is anyone trapped inside?", Kind: AnswerYesNo},
				{Key: "injuries", Prompt: "Is anyone hurt?", Kind: AnswerYesNo},
			},
			"violence": {
				{Key: "safe", Prompt: "Are you somewhere safe right now?", Kind: AnswerYesNo},
				{Key: "location", Prompt: "What is your exact location?", Kind: AnswerText},
				{Key: "weapon", Prompt: "Is there a weapon involved?", Kind: AnswerYesNo},
				{Key: "injuries", Prompt: "Is anyone hurt?", Kind: AnswerYesNo},
			},
			"self_harm": {
				{Key: "safe", Prompt: "Are you somewhere safe right now?", Kind: AnswerYesNo},
				{Key: "location", Prompt: "Where are you right now?", Kind: AnswerText},
			},
			"general": {
				{Key: "what_happened", Prompt: "Can you briefly describe what happened?", Kind: AnswerText},
				{Key: "location", Prompt: "What is your exact location?", Kind: AnswerText},
			},
		},

		Inferences: []Inference{
			{Match: []string{"unconscious", "unresponsive", "not responding", "passed out", "won't wake"}, Key: "consciousness", Value: "no"},
			{Match: []string{"not breathing", "stopped breathing", "isn't breathing", "no pulse"}, Key: "breathing", Value: "no"},
			{Match: []string{"severe bleeding", "bleeding heavily", "lots of blood", "won't stop bleeding"}, Key: "bleeding", Value: "yes"},
			{Match: []string{"trapped", "stuck inside", "can't get out"}, Key: "trapped", Value: "yes"},
			{Match: []string{"gun", "knife", "weapon"}, Key: "weapon", Value: "yes"},
			{Match: []string{"i'm safe", "i am safe", "we're safe", "we are safe"}, Key: "safe", Value: "yes"},
			{Match: []string{"not safe", "in danger"}, Key: "safe", Value: "no"},
		},

		Procedures: []Procedure{
			{
				Name:      "cpr",
				Triggers:  []string{"not breathing", "stopped breathing", "isn't breathing", "no pulse"},
				When:      map[string]string{"consciousness": "no", "breathing": "no"},
				Immediate: "If they are not breathing, start CPR now: push hard and fast in the center of the chest, about two pushes every second.",
				Script: "Start CPR. Lay the person on their back on a firm surface. Put the heel of one hand in the center of the chest " +
					"and your other hand on top. Keep your arms straight and push down at least 2 inches, 100 to 120 times a minute. " +
					"Let the chest come all the way back up between pushes.",
			},
			{
				Name:      "choking",
				Triggers:  []string{"choking"},
				Immediate: "If they cannot cough, speak or breathe, give five firm back blows between the shoulder blades now.",
				Script: "Stand behind the person and lean them forward, supporting their chest with one hand. Give up to five sharp blows " +
					"between the shoulder blades with the heel of your hand. If that does not clear it, give up to five abdominal thrusts.",
			},
			{
				Name:      "bleeding",
				Triggers:  []string{"bleeding"},
				When:      map[string]string{"bleeding": "yes"},
				Immediate: "Press firmly on the wound with a clean cloth and do not let go.",
				Script: "Keep firm, steady pressure on the wound. If blood soaks through, add more cloth on top without lifting the first layer. " +
					"If you can, raise the injured area above the heart.",
			},
			{
				Name:     "chest_pain",
				Triggers: []string{"chest pain", "heart attack"},
				Script: "Have the person sit down and rest in whatever position is most comfortable. Loosen tight clothing. " +
					"If they have been prescribed heart medication, help them take it.",
			},
			{
				Name:     "stroke",
				Triggers: []string{"stroke"},
				Script: "Note the time the symptoms started. Have the person lie down with their head and shoulders slightly raised. " +
					"Do not give them anything to eat or drink.",
			},
			{
				Name:     "seizure",
				Triggers: []string{"seizure"},
				Script: "Do not hold the person down and do not put anything in their mouth. Move hard objects away, " +
					"put something soft under their head and time the seizure.",
			},
			{
				Name:     "allergic_reaction",
				Triggers: []string{"allergic reaction"},
				Script: "If the person has an epinephrine auto-injector, help them use it in the outer thigh. " +
					"Have them lie down with their legs raised unless breathing is easier sitting up.",
			},
			{
				Name:     "fracture",
				Triggers: []string{"broken bone"},
				Script:   "Do not try to straighten the injury. Keep the area still and support it, and put something cold wrapped in cloth on it.",
			},
			{
				Name:     "fire_safety",
				Triggers: []string{"fire", "smoke", "explosion", "flames", "gas leak", "burning"},
				Script: "Get everyone out now and stay out. Stay low under the smoke, feel doors for heat before opening them " +
					"and do not use elevators. Do not go back inside for anything.",
			},
			{
				Name:     "violence_safety",
				Triggers: []string{"gun", "weapon", "knife", "intruder", "break in", "assault", "attacked", "robbery", "shot", "stabbed"},
				Script: "If you can, get to a room that locks and stay away from doors and windows. Silence your phone's ringer " +
					"and stay on the line. Do not confront the person.",
			},
		},

		Services: map[string]string{
			"medical":   "EMS",
			"fire":      "Fire Department",
			"violence":  "Police",
			"self_harm": "Crisis Response",
			"general":   "EMS",
		},

		Empathy: Empathy{
			Calming: []string{
				"I understand this is frightening. I'm here with you.",
				"You did the right thing by reaching out. I'm going to guide you through this.",
				"I know this is overwhelming. Help is being arranged, so stay with me.",
				"Take a slow breath. You're doing the right thing.",
				"You're not alone in this. I'm right here.",
			},
			Validation: []string{
				"That sounds really frightening.",
				"It makes sense that you're worried.",
				"Anyone would feel shaken right now.",
				"You're handling this as well as anyone could.",
			},
			Reassurance: []string{
				"Help is on the way.",
				"You're doing well. Keep talking to me.",
				"You've taken the right step.",
				"Stay with me, we'll get through this together.",
			},
			Support:    []string{"scared", "afraid", "worried", "nervous", "panic", "help me"},
			Breathing:  "Try to take slow, deep breaths with me.",
			Pain:       "I know you're in pain right now.",
			Scared:     "It's okay to feel scared.",
			Help:       "Help is definitely coming.",
			Soften:     "I can hear how stressful this is, and that's okay.",
			Fallback:   "I understand you're in an emergency. Help is on the way. Stay calm.",
			StayOnLine: "Please stay on the line while I get you help.",
		},

		Guidance: Guidance{
			Lead:     "Here's what to do right now:",
			Trail:    "Keep going until responders arrive.",
			Critical: "Keep the person still and comfortable. Watch their breathing and whether they respond to you, and don't move them unless they are in danger.",
			High:     "Keep the person calm and comfortable, and give basic first aid if you know how.",
			Default:  "Stay with the person and keep them comfortable. Tell me if anything changes.",
		},

		Dispatch: DispatchText{
			Notified:   "Emergency services have been notified. %s is being dispatched to your location. Reference number: %s.",
			TriageDone: "I have enough information to send the right help.",
		},

		Weights: Weights{
			Override: 1.0,
			Empathy:  0.2,
			Triage:   0.4,
			Guidance: 0.4,
			Dispatch: 0.4,
			Fallback: 0.1,
		},

		Answers: Answers{
			Yes:     []string{"yes", "yeah", "yep", "yup", "correct", "affirmative", "sure", "right"},
			No:      []string{"no", "nope", "nah", "not", "negative", "isn't", "isnt", "can't", "cannot", "doesn't", "won't", "none", "nobody", "nothing"},
			Unknown: []string{"don't know", "dont know", "do not know", "not sure", "no idea", "unsure", "can't tell"},
		},
	}
}
