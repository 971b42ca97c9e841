package challenge

// Builtin returns the challenges shipped with the service.
func Builtin() []Challenge {
	return []Challenge{
		{
			ID:               "1",
			Title:            "The Impact of Artificial Intelligence",
			TimeLimitSeconds: 60,
			Script:           `Artificial Intelligence, or AI, is revolutionizing our world in unprecedented ways. From healthcare to finance, AI is transforming industries and reshaping our daily lives. In healthcare, AI algorithms are assisting doctors in diagnosing diseases with remarkable accuracy, potentially saving countless lives. In the financial sector, AI-powered systems are detecting fraud, optimizing investments, and providing personalized financial advice. However, as AI continues to advance, we must also consider its ethical implications. Questions about privacy, job displacement, and the potential for AI bias need to be addressed. As we move forward, it's crucial that we harness the power of AI responsibly, ensuring that it benefits all of humanity while mitigating potential risks. The future of AI is bright, but it requires our careful guidance and consideration.`,
			Keywords: []string{
				"Artificial Intelligence",
				"AI",
				"healthcare",
				"finance",
				"transforming",
				"algorithms",
				"diagnosing",
				"fraud",
				"investments",
				"ethical",
				"privacy",
				"job displacement",
				"bias",
				"responsibly",
				"humanity",
				"risks",
				"future",
			},
		},
		{
			ID:               "2",
			Title:            "Climate Change Solutions",
			TimeLimitSeconds: 90,
			Script:           `Climate change is one of the most pressing issues of our time, demanding immediate and decisive action. To combat this global threat, we need to implement a multi-faceted approach. First, we must rapidly transition to renewable energy sources like solar, wind, and hydroelectric power. This shift will significantly reduce our carbon emissions and dependence on fossil fuels. Second, we need to focus on sustainable urban planning and transportation. This includes developing energy-efficient buildings, promoting public transit, and encouraging the use of electric vehicles. Third, we must protect and restore our natural ecosystems, particularly forests and oceans, which act as crucial carbon sinks. Additionally, we need to revolutionize our agricultural practices, promoting sustainable farming methods that reduce emissions and increase resilience to changing climate conditions. Lastly, international cooperation is essential. We need global agreements and policies that hold nations accountable for their emissions and support developing countries in their transition to green economies. By implementing these solutions, we can mitigate the worst effects of climate change and create a sustainable future for generations to come.`,
			Keywords: []string{
				"Climate change",
				"renewable energy",
				"solar",
				"wind",
				"hydroelectric",
				"carbon emissions",
				"fossil fuels",
				"sustainable",
				"energy-efficient",
				"public transit",
				"electric vehicles",
				"ecosystems",
				"forests",
				"oceans",
				"carbon sinks",
				"agricultural",
				"emissions",
				"resilience",
				"international cooperation",
				"global agreements",
				"sustainable future",
			},
		},
		{
			ID:               "3",
			Title:            "The Future of Space Exploration",
			TimeLimitSeconds: 120,
			Script:           `The future of space exploration is incredibly exciting and holds immense potential for scientific discovery and human advancement. As we look to the stars, several key areas are shaping the future of space exploration. First, there's the ongoing mission to Mars. Space agencies and private companies are working tirelessly to send humans to the Red Planet, which could happen within the next decade. This mission isn't just about reaching Mars, but about learning how to sustain human life on another planet, a crucial step for the long-term survival of our species. Second, we're seeing a renewed interest in lunar exploration. The Moon could serve as a stepping stone for deeper space missions and could also be a source of valuable resources. Third, the search for exoplanets and potential extraterrestrial life continues to captivate scientists and the public alike. Advanced telescopes and detection methods are allowing us to discover more potentially habitable planets than ever before. Fourth, the commercialization of space is opening up new possibilities. Private companies are now launching satellites, planning space tourism ventures, and even considering asteroid mining. Lastly, advancements in propulsion technology, like ion drives and potential fusion engines, could dramatically reduce travel times in space, making distant destinations more accessible. As we continue to push the boundaries of space exploration, we're not just learning about the universe - we're also developing technologies that can benefit life here on Earth, from satellite communications to medical advancements. The future of space exploration is bright, and its potential benefits for humanity are truly out of this world.`,
			Keywords: []string{
				"space exploration",
				"scientific discovery",
				"Mars",
				"Red Planet",
				"lunar exploration",
				"Moon",
				"exoplanets",
				"extraterrestrial life",
				"telescopes",
				"commercialization",
				"satellites",
				"space tourism",
				"asteroid mining",
				"propulsion technology",
				"ion drives",
				"fusion engines",
				"universe",
				"satellite communications",
				"medical advancements",
			},
		},
	}
}
