package app

import (
	"strings"
	"unicode"
)

const (
	IntentCertificationRecommendation = "certification_recommendation"
	IntentFoundationLevel             = "foundation_level_info"
	IntentAdvancedLevel               = "advanced_level_info"
	IntentTrainingProviders           = "training_providers"
	IntentExperienceAdvice            = "experience_based_advice"
	IntentSpecialist                  = "specialist_certifications"
	IntentCareerAdvice                = "career_advice"
	IntentGreeting                    = "greeting"
	IntentHelp                        = "help"
	IntentGeneral                     = "general_inquiry"
)

type fallbackRule struct {
	intent      string
	phrases     []string
	message     string
	suggestions []string
}

// Rules are tried in order; the first rule with a matching phrase wins.
var fallbackRules = []fallbackRule{
	{
		intent:  IntentCertificationRecommendation,
		phrases: []string{"which certification", "what certification", "start with", "recommend"},
		message: "I'd be happy to recommend the right ISTQB certification for you. To give you the best advice, tell me:\n\n" +
			"- your current experience level in testing\n- your current role\n- your career goals\n\n" +
			"For most beginners the **CTFL (Foundation Level)** is the place to start, as it covers the essential testing fundamentals.",
		suggestions: []string{"I'm new to testing", "I have 2+ years experience", "I want to be a test manager", "Tell me about Foundation Level"},
	},
	{
		intent:  IntentFoundationLevel,
		phrases: []string{"foundation", "ctfl", "beginner", "new to testing"},
		message: "**CTFL (Foundation Level)** is the entry point of the ISTQB scheme.\n\n" +
			"It covers testing fundamentals, testing throughout the lifecycle, static testing, test techniques, test management and tool support. " +
			"It is the prerequisite for every Advanced and Specialist certification.",
		suggestions: []string{"Find training courses", "Advanced certifications", "Study materials", "Exam registration"},
	},
	{
		intent:  IntentAdvancedLevel,
		phrases: []string{"advanced", "ctal", "next level"},
		message: "**Advanced Level certifications** build on CTFL. Choose by career path:\n\n" +
			"- **CTAL-TA (Test Analyst)** for testing specialists\n" +
			"- **CTAL-TM (Test Management)** for leads and managers\n" +
			"- **CTAL-TAE (Test Automation Engineering)** for automation specialists\n\n" +
			"All of them require the Foundation Level first.",
		suggestions: []string{"Tell me about Test Analyst", "I want to be a manager", "Automation interests me", "Prerequisites info"},
	},
	{
		intent:  IntentTrainingProviders,
		phrases: []string{"training", "course", "study", "where to learn"},
		message: "**Training options for ISTQB certifications:**\n\n" +
			"- accredited training providers from the ISTQB partner network\n" +
			"- self-paced online courses\n- instructor-led virtual or in-person classes\n\n" +
			"Which certification are you preparing for?",
		suggestions: []string{"CTFL training", "Advanced level courses", "Online vs in-person", "Cost comparison"},
	},
	{
		intent:  IntentExperienceAdvice,
		phrases: []string{"experience", "years", "background"},
		message: "**Recommendations by experience:**\n\n" +
			"- 0-2 years: start with CTFL\n- 2-5 years: CTFL then CTAL-TA\n" +
			"- 3-7 years, management track: CTFL then CTAL-TM\n- automation track: CTFL then CTAL-TAE\n" +
			"- 5+ years: combine Advanced and Specialist certifications\n\nWhat is your current experience level?",
		suggestions: []string{"I have 1 year experience", "I have 5+ years", "I work in automation", "I want to manage teams"},
	},
	{
		intent:  IntentSpecialist,
		phrases: []string{"specialist", "mobile", "ai", "automotive"},
		message: "**Specialist ISTQB certifications** include Mobile Application Testing (CT-MAT), AI Testing (CT-AI) and Automotive Software Testing (CT-AuT). " +
			"All require CTFL first. Which area interests you most?",
		suggestions: []string{"Mobile testing details", "AI testing info", "Automotive testing", "Tell me about CTFL first"},
	},
	{
		intent:  IntentCareerAdvice,
		phrases: []string{"career", "salary", "job", "worth it"},
		message: "**Career value of ISTQB certifications:** the Foundation Level opens doors to testing roles, " +
			"Advanced Level certifications support senior and leadership positions, and Specialist certifications add niche expertise. " +
			"Automation and AI testing are currently the fastest growing areas.",
		suggestions: []string{"Salary expectations", "Best ROI certifications", "Job market trends", "Remote work impact"},
	},
	{
		intent:  IntentGreeting,
		phrases: []string{"hello", "hi", "hey"},
		message: "Hello! I'm your ISTQB certification guidance assistant. I can help with certification recommendations, " +
			"training providers, career advice and exam requirements.\n\nWhat would you like to know?",
		suggestions: []string{"Which certification should I start with?", "Find training courses", "Career benefits", "Help me choose"},
	},
	{
		intent:  IntentHelp,
		phrases: []string{"help", "what can you do"},
		message: "I can recommend a certification for your experience, explain prerequisites and exam formats, " +
			"point you to training options and describe the career impact of each certification.",
		suggestions: []string{"Recommend a certification", "Find training courses", "Career impact", "Exam requirements"},
	},
}

var generalReply = fallbackRule{
	intent: IntentGeneral,
	message: "I'm not sure I understood that question, but I'm here to help with ISTQB certifications: choosing a certification, " +
		"finding training, career guidance and exam requirements.\n\n" +
		"Try asking \"Which ISTQB certification should I start with?\"",
	suggestions: []string{"Which certification for beginners?", "Find training courses", "Career benefits", "Help me choose"},
}

func matchRule(message string) fallbackRule {
	text := " " + strings.Join(words(message), " ") + " "
	for _, rule := range fallbackRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, " "+phrase+" ") {
				return rule
			}
		}
	}
	return generalReply
}

// words lowercases message and splits it on anything but letters, digits
// and apostrophes so phrases only match whole words.
func words(message string) []string {
	return strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// DetectIntent classifies a user message with the rule table.
func DetectIntent(message string) string { return matchRule(message).intent }

// SuggestionsFor returns follow-up prompts for an intent.
func SuggestionsFor(intent string) []string {
	for _, rule := range fallbackRules {
		if rule.intent == intent {
			return append([]string(nil), rule.suggestions...)
		}
	}
	return append([]string(nil), generalReply.suggestions...)
}
